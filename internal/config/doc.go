/*
Package config loads the supervisor's configuration with the same
precedence every binary in this tree uses: compiled-in defaults, then a
YAML file, then the handful of settings spec.md §6 names as environment
variables, then CLI flags — each layer overriding only the fields it
sets, never clearing what an earlier layer already set.
*/
package config
