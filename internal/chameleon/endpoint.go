package chameleon

import "fmt"

// BaseEndpoint is the Chameleon observe-hooks API root.
const BaseEndpoint = "https://api.chameleon.io/v3/observe/hooks"

// Resource returns the hooks resource segment for c.
func (c Category) Resource() string {
	switch c {
	case Identify:
		return "profiles"
	case Track, Page:
		return "events"
	case Group:
		return "companies"
	default:
		panic(fmt.Sprintf("chameleon: no resource for %s", c))
	}
}

// ResolveEndpoint returns the destination URL for a category. The account
// secret is embedded as-is.
func ResolveEndpoint(accountSecret string, c Category) string {
	return BaseEndpoint + "/" + accountSecret + "/" + c.Resource()
}
