package cmdutil_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/rekey/cmd/internal/cmdutil"
	"github.com/stokaro/rekey/migration/entity"
)

func TestEntityTypes(t *testing.T) {
	p := entity.DefaultProvider()

	tests := []struct {
		name    string
		args    []string
		want    []entity.Type
		wantErr string
	}{
		{name: "all types", args: nil, want: []entity.Type{entity.Challenge, entity.Event, entity.Group}},
		{name: "plural and case", args: []string{"Groups", "event"}, want: []entity.Type{entity.Group, entity.Event}},
		{name: "unknown", args: []string{"badge"}, wantErr: `unknown entity type: "badge"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)

			got, err := cmdutil.EntityTypes(p, tt.args)
			if tt.wantErr != "" {
				c.Assert(err, qt.ErrorMatches, tt.wantErr)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(got, qt.DeepEquals, tt.want)
		})
	}
}

func TestTitle(t *testing.T) {
	c := qt.New(t)
	c.Assert(cmdutil.Title(entity.Challenge), qt.Equals, "Challenge")
}

func TestConnectionFlags(t *testing.T) {
	c := qt.New(t)

	flags := cmdutil.ConnectionFlags()
	c.Assert(flags, qt.HasLen, 2)
	c.Assert(flags[cmdutil.ConfigFlag], qt.IsNotNil)
	c.Assert(flags[cmdutil.DBURLFlag], qt.IsNotNil)

	// Every command gets its own flag instances.
	c.Assert(cmdutil.ConnectionFlags()[cmdutil.DBURLFlag], qt.Not(qt.Equals), flags[cmdutil.DBURLFlag])
}
