package auth

// PremiumSource is one place premium status may be read from. Lookup
// returns false in its second result when the source holds no value.
type PremiumSource struct {
	Name   string
	Lookup func() (premium bool, ok bool)
}

const PremiumSourceDefault = "default"

// ResolvePremium returns the value of the first source that has one, and
// that source's name. With no value anywhere it returns false.
func ResolvePremium(sources ...PremiumSource) (premium bool, from string) {
	for _, src := range sources {
		if src.Lookup == nil {
			continue
		}
		if v, ok := src.Lookup(); ok {
			return v, src.Name
		}
	}
	return false, PremiumSourceDefault
}

// Names of the sources consulted by SessionManager.PremiumStatus, in
// precedence order.
const (
	PremiumSourceCache    = "cache"
	PremiumSourceProfile  = "profile"
	PremiumSourceFlag     = "store_flag"
	PremiumSourceUserData = "user_data"
)
