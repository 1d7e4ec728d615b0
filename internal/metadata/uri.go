package metadata

import (
	"net/url"
	"strings"
)

// ContentHash extracts the content address (CID plus optional path) from uri.
// Accepted forms: ipfs://<cid>, ipfs://ipfs/<cid>, /ipfs/<cid>, a bare CID,
// and any HTTP(S) gateway URL whose path contains /ipfs/<cid>.
func ContentHash(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		hash := strings.TrimPrefix(uri, "ipfs://")
		hash = strings.TrimPrefix(hash, "ipfs/")
		return hash, hash != ""
	case strings.HasPrefix(uri, "/ipfs/"):
		hash := strings.TrimPrefix(uri, "/ipfs/")
		return hash, hash != ""
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		u, err := url.Parse(uri)
		if err != nil {
			return "", false
		}
		_, hash, ok := strings.Cut(u.Path, "/ipfs/")
		if !ok || hash == "" {
			return "", false
		}
		return hash, true
	case isCID(uri):
		return uri, true
	}
	return "", false
}

// isCID recognizes bare CIDv0 (Qm..., 46 chars) and base32 CIDv1 (bafy...)
// identifiers, optionally followed by a path.
func isCID(s string) bool {
	root, _, _ := strings.Cut(s, "/")
	if strings.HasPrefix(root, "Qm") && len(root) == 46 {
		return isAlnum(root)
	}
	if strings.HasPrefix(root, "baf") && len(root) >= 50 {
		return isAlnum(root)
	}
	return false
}

func isAlnum(s string) bool {
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func gatewayURL(base, hash string) string {
	return base + "/ipfs/" + hash
}
