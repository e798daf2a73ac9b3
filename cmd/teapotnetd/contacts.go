package main

import (
	"encoding/hex"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/teapotnet/teapotnet/pkg/peering"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
)

// contactFile is the on-disk YAML form of one entry in the node's address
// book. Loading and persisting the address book itself is an external
// collaborator's concern (the store); this file format is only the
// minimal bootstrap this daemon needs to populate a peering.Registry.
type contactFile struct {
	Contacts []struct {
		LocalUser  string `yaml:"local_user"`
		RemoteUser string `yaml:"remote_user"`
		SecretHex  string `yaml:"secret"`
	} `yaml:"contacts"`
}

// loadContacts reads path and registers every entry in registry. A missing
// file yields a registry with no contacts rather than an error, so a fresh
// node can still start and accept its first contact out of band.
func loadContacts(path string, registry *peering.Registry, listener peering.Listener) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Info("no contacts file, starting with an empty address book")
			return nil
		}
		return fmt.Errorf("contacts: %w", err)
	}

	var parsed contactFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("contacts: %w", err)
	}

	for _, c := range parsed.Contacts {
		secret, err := hex.DecodeString(c.SecretHex)
		if err != nil {
			return fmt.Errorf("contacts: %s/%s: bad secret: %w", c.LocalUser, c.RemoteUser, err)
		}
		if _, err := registry.AddContact(c.LocalUser, c.RemoteUser, secret, listener); err != nil {
			return fmt.Errorf("contacts: %s/%s: %w", c.LocalUser, c.RemoteUser, err)
		}
		log.WithField("local", c.LocalUser).WithField("remote", c.RemoteUser).Info("registered contact")
	}
	return nil
}

// loggingListener is a placeholder peering.Listener: the real store/indexer
// and HTTP interface (both out of scope here) would answer requests with
// actual resource data. This one only logs, so the daemon is runnable and
// its session core observable on its own.
type loggingListener struct{}

func (loggingListener) OnMessage(msg *request.Message) {
	log.WithField("receiver", msg.Receiver.String()).Info("message received")
}

func (loggingListener) OnRequest(req *request.Request) {
	log.WithField("target", req.Target).Warn("request received but no store is wired, answering not-found")
	req.Respond(true, proto.StatusNotFound, nil, nil)
}
