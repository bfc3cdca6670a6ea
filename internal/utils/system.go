package utils

import (
	"os"
	"os/user"
)

// GetUsername returns the login name of the current OS user.
func GetUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Operator identifies who ran a command as user@host. Parts that cannot be
// determined are left out; an empty string means neither could.
func Operator() string {
	name, _ := GetUsername()
	host, _ := os.Hostname()
	switch {
	case name != "" && host != "":
		return name + "@" + host
	case name != "":
		return name
	default:
		return host
	}
}
