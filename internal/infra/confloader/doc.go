// Package confloader loads configuration with koanf and watches the
// configuration file with fsnotify.
//
// Sources in increasing priority:
//
//  1. defaults already present in the target struct
//  2. the YAML configuration file
//  3. MESHSTORE_ environment variables
//  4. command-line flag overrides
//
// @design DS-0502
// @adr AD-0501
package confloader
