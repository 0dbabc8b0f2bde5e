package provider

import "strings"

// Profile is the resolved provider choice for an account identity:
// which adapter to use, where to point it, and what it is known to
// support. Resolved once at configuration time, never re-derived per
// request.
type Profile struct {
	Provider   string
	Endpoint   string
	Caps       Capabilities
	Confidence float64
	// NeedsDiscovery is set when the host is unrecognized and the
	// CalDAV well-known discovery handshake has to fill in Endpoint.
	NeedsDiscovery bool
}

type hostPattern struct {
	suffixes []string
	profile  Profile
}

var knownHosts = []hostPattern{
	{
		suffixes: []string{"gmail.com", "googlemail.com"},
		profile: Profile{
			Provider:   "google",
			Caps:       CapSyncCollection | CapETags | CapRecurrence,
			Confidence: 0.95,
		},
	},
	{
		suffixes: []string{"icloud.com", "me.com", "mac.com"},
		profile: Profile{
			Provider:   "caldav",
			Endpoint:   "https://caldav.icloud.com",
			Caps:       CapSyncCollection | CapETags,
			Confidence: 0.95,
		},
	},
	{
		suffixes: []string{"fastmail.com", "fastmail.fm"},
		profile: Profile{
			Provider:   "caldav",
			Endpoint:   "https://caldav.fastmail.com",
			Caps:       CapSyncCollection | CapETags,
			Confidence: 0.95,
		},
	},
}

// DetectProvider maps an account identity (email address or bare host)
// to a provider profile. Unrecognized hosts get a generic CalDAV
// profile that still needs the well-known discovery handshake, at a
// confidence that makes the guess visible as a guess.
func DetectProvider(identity string) Profile {
	host := strings.ToLower(strings.TrimSpace(identity))
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}

	for _, p := range knownHosts {
		for _, suffix := range p.suffixes {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return p.profile
			}
		}
	}

	return Profile{
		Provider:       "caldav",
		Caps:           CapETags,
		Confidence:     0.4,
		NeedsDiscovery: true,
	}
}
