//go:build linux

package hvloader

const platformSupported = true
