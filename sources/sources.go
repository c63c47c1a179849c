package sources

import (
	"github.com/hazyhaar/sonde/recon"
)

// Config configures the handler set. Empty endpoint fields use the
// public services; tests point them at local servers.
type Config struct {
	Client ClientConfig

	DoHEndpoint      string
	CrtShEndpoint    string
	IPAPIEndpoint    string
	GravatarEndpoint string
	ProfileSites     []ProfileSite
}

// NewRegistry builds the full handler registry over one shared HTTP
// client. The registry covers every catalog category, so any catalog
// that sticks to the known categories passes engine validation.
func NewRegistry(cfg Config) recon.Registry {
	client := NewClient(cfg.Client)

	domain := NewDomainHandler(client, cfg.DoHEndpoint, cfg.CrtShEndpoint)
	ip := NewIPHandler(client, cfg.DoHEndpoint, cfg.IPAPIEndpoint)
	email := NewEmailHandler(client, cfg.DoHEndpoint, cfg.GravatarEndpoint)
	username := NewUsernameHandler(client, cfg.ProfileSites)

	return recon.Registry{
		"domain":   domain.Handle,
		"ip":       ip.Handle,
		"email":    email.Handle,
		"username": username.Handle,
	}
}
