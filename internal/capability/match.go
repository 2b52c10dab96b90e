package capability

import (
	"log/slog"
	"strings"
)

// Match maps a remote capability name to a local capability ID.
//
// Pass 1 looks for exact equality with a canonicalized catalog name. Pass 2
// runs only when pass 1 finds nothing and accepts substring containment in
// either direction. The first hit in catalog order wins. A miss is expected
// while the two stores have not converged and is only logged.
func Match(remoteName string, catalog []Capability) (string, bool) {
	if remoteName == "" {
		return "", false
	}

	canon := make([]string, len(catalog))
	for i, c := range catalog {
		canon[i] = Canonicalize(c.Name)
		if canon[i] == remoteName {
			return c.ID, true
		}
	}

	for i, c := range catalog {
		if canon[i] == "" {
			continue
		}
		if strings.Contains(remoteName, canon[i]) || strings.Contains(canon[i], remoteName) {
			return c.ID, true
		}
	}

	slog.Debug("remote capability has no local match", "remote_name", remoteName, "catalog_size", len(catalog))
	return "", false
}

// RemoteNameFor returns the remote name that identifies c on the remote
// platform: an exact canonical hit first, then a containment hit, and the
// canonical name itself when the remote list does not mention c at all.
func RemoteNameFor(c Capability, remoteNames []string) string {
	canon := Canonicalize(c.Name)
	for _, name := range remoteNames {
		if name == canon {
			return name
		}
	}
	if canon != "" {
		for _, name := range remoteNames {
			if name != "" && (strings.Contains(name, canon) || strings.Contains(canon, name)) {
				return name
			}
		}
	}
	return canon
}
