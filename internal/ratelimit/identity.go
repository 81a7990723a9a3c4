package ratelimit

// Identity is the set of dimensions one request is limited against.
// Resolved once by the gateway and read-only afterwards.
type Identity struct {
	IP        string
	UserID    string
	APIKeyID  string
	Endpoint  string
	GeoRegion string
}

// Key returns the most specific stable handle for this identity, used
// for penalty tracking and incident records.
func (id Identity) Key() string {
	switch {
	case id.APIKeyID != "":
		return "key:" + id.APIKeyID
	case id.UserID != "":
		return "user:" + id.UserID
	default:
		return "ip:" + id.IP
	}
}

// Subject returns the counter dimension for a rule scope, and whether
// the scope applies to this identity at all.
func (id Identity) Subject(scope string) (string, bool) {
	switch scope {
	case "global":
		return "all", true
	case "ip", "burst":
		if id.IP == "" {
			return "", false
		}
		return id.IP, true
	case "user":
		if id.UserID == "" {
			return "", false
		}
		return id.UserID, true
	case "api_key":
		if id.APIKeyID == "" {
			return "", false
		}
		return id.APIKeyID, true
	case "endpoint":
		if id.IP == "" || id.Endpoint == "" {
			return "", false
		}
		return id.IP + "|" + id.Endpoint, true
	default:
		return "", false
	}
}
