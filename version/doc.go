// Package version exposes the build version of the taskflow binary.
package version
