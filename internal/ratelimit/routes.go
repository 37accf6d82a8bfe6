package ratelimit

import "regexp"

// Route families that share one server-side rate limit. Matching is
// anchored at the start of the unprefixed route and consumes only the first
// id segment (webhooks take two), so sub-resources under the same parent id
// land in the same bucket. The matched substring, without the leading
// slash, is the bucket key.
//
// When the server introduces a new bucketed route family, add a rule here.
var bucketRules = []*regexp.Regexp{
	regexp.MustCompile(`^/(channels/\d+)(?:/|$)`),
	regexp.MustCompile(`^/(guilds/\d+)(?:/|$)`),
	regexp.MustCompile(`^/(webhooks/\d+/\d+)(?:/|$)`),
}

// BucketKey maps an unprefixed route to its bucket key, or "" when the
// route does not belong to a known bucket family and must use the global
// queue. Keys are derived from the route as passed by the caller, before
// the API version prefix or query string are applied, so versioning never
// affects bucket identity.
func BucketKey(route string) string {
	for _, re := range bucketRules {
		if m := re.FindStringSubmatch(route); m != nil {
			return m[1]
		}
	}
	return ""
}
