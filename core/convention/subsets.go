package convention

// Subsets are the named, ordered field-name groups of a collection.
type Subsets struct {
	// Client holds every field except sys fields.
	Client []string
	// Property holds every field except secure fields.
	Property []string
	// Create holds fields a client may set on create.
	Create []string
	// Update holds fields a client may set on update; a subset of Create.
	Update []string
	// Clone holds fields copied from the source record on clone.
	Clone []string
	// Search holds fields a client may filter on.
	Search []string
	// List holds fields that may be projected in lists; never secure.
	List []string

	// views maps field name to its view tag, for fields restricted to a view.
	views map[string]string
}

func computeSubsets(fields []DerivedField) Subsets {
	var s Subsets
	for _, f := range fields {
		if !f.Sys {
			s.Client = append(s.Client, f.Name)
		}
		if !f.Secure {
			s.Property = append(s.Property, f.Name)
		}
		if f.CanCreate {
			s.Create = append(s.Create, f.Name)
			if f.CanUpdate {
				s.Update = append(s.Update, f.Name)
			}
		}
		if f.CanClone {
			s.Clone = append(s.Clone, f.Name)
		}
		if f.CanSearch {
			s.Search = append(s.Search, f.Name)
		}
		if f.CanList && !f.Secure {
			s.List = append(s.List, f.Name)
		}
		if f.View != "" {
			if s.views == nil {
				s.views = make(map[string]string)
			}
			s.views[f.Name] = f.View
		}
	}
	return s
}

// ForView returns the subsets restricted to fields visible in view. Fields
// without a view tag are visible everywhere; tagged fields only in their view.
func (s Subsets) ForView(view string) Subsets {
	if len(s.views) == 0 {
		return s
	}
	keep := func(names []string) []string {
		out := make([]string, 0, len(names))
		for _, n := range names {
			if v, tagged := s.views[n]; !tagged || v == view {
				out = append(out, n)
			}
		}
		return out
	}
	return Subsets{
		Client:   keep(s.Client),
		Property: keep(s.Property),
		Create:   keep(s.Create),
		Update:   keep(s.Update),
		Clone:    keep(s.Clone),
		Search:   keep(s.Search),
		List:     keep(s.List),
		views:    s.views,
	}
}

// Contains reports whether name is in the subset.
func Contains(subset []string, name string) bool {
	for _, n := range subset {
		if n == name {
			return true
		}
	}
	return false
}
