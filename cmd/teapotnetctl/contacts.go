package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// contactEntry mirrors teapotnetd's on-disk contact format exactly, so
// teapotnetctl can edit the same file the daemon reads at startup.
type contactEntry struct {
	LocalUser  string `yaml:"local_user"`
	RemoteUser string `yaml:"remote_user"`
	SecretHex  string `yaml:"secret"`
}

type contactFile struct {
	Contacts []contactEntry `yaml:"contacts"`
}

func readContactFile(path string) (contactFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return contactFile{}, nil
		}
		return contactFile{}, err
	}
	var cf contactFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return contactFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cf, nil
}

func writeContactFile(path string, cf contactFile) error {
	data, err := yaml.Marshal(cf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
