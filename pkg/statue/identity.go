package statue

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/itohio/firstcontact/pkg/config"
	"github.com/itohio/firstcontact/pkg/directory"
)

// ResolveIdentity decides who this node is. A fixed statue name in the node
// config wins (the legacy build-time mode); otherwise the node's address is
// matched against the directory. No address match degrades to the default
// identity with a warning rather than refusing to boot: a misidentified
// statue still senses and plays, it just answers to the wrong name.
func ResolveIdentity(log logrus.FieldLogger, dir *directory.Directory, cfg *config.Config, localIP string) (directory.Identity, error) {
	if cfg.Statue != "" {
		id, err := dir.ResolveByName(cfg.Statue)
		if err != nil {
			return directory.Identity{}, fmt.Errorf("configured statue: %w", err)
		}
		log.WithFields(logrus.Fields{
			"statue": id.Name,
			"index":  id.Index,
			"emit":   id.EmitFrequency,
		}).Info("identity pinned by config")
		return id, nil
	}

	id, err := dir.Resolve(localIP)
	if err != nil {
		if errors.Is(err, directory.ErrNoMatch) {
			id = dir.DefaultIdentity()
			log.WithFields(logrus.Fields{
				"address": localIP,
				"statue":  id.Name,
			}).Warn("no directory entry matches this address, using default identity")
			return id, nil
		}
		return directory.Identity{}, err
	}

	log.WithFields(logrus.Fields{
		"statue":  id.Name,
		"index":   id.Index,
		"emit":    id.EmitFrequency,
		"address": localIP,
	}).Info("identity resolved by address")
	return id, nil
}

// LocalIP returns the node's primary IPv4 address, the one DHCP handed out
// on the installation network.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
