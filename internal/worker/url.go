package worker

import "net/url"

// sameHost reports whether two URLs share a host, used to decide whether a
// merge-worker monitor navigation is already satisfied.
func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ua.Host == ub.Host
}
