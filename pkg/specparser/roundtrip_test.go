package specparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRoundTrip exercises the §8 round-trip law: describe(parse(s)) must
// re-parse to a specification that describes identically again.
func TestRoundTrip(t *testing.T) {
	cases := []string{
		"(o:Order) { } => o",
		"(o:Order) { li:LineItem [li->order = o] } => li.quantity",
		"(c:Company) { e:Employee [e->employer = c] [E { p:Paycheck [p->employee = e] }] } => e",
		"(c:Company) { e:Employee [e->employer = c] [!E { t:Termination [t->employee = e] }] } => { name = e.name, id = #e }",
		"(o:Order) { } => { total = o.total, items = { li:LineItem [li->order = o] } => li }",
	}

	for _, src := range cases {
		src := src
		t.Run(src, func(t *testing.T) {
			first, err := Parse(src)
			require.NoError(t, err)

			described := Describe(first)

			second, err := Parse(described)
			require.NoError(t, err, "re-parsing describe output: %s", described)

			require.Equal(t, Describe(second), described)
		})
	}
}
