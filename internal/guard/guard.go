package guard

// Result is the verdict of a guard check.
type Result struct {
	Allowed bool
	Reason  string
	Guard   string
}
