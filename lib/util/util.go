// Package util contains small helpers shared by the services.
package util

// In reports whether s is one of ss. Used to filter queue entries by ens address.
func In(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}

	return false
}
