package binding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3tea/cdc-sentinel/binding"
)

func TestRegistryDedupsEntities(t *testing.T) {
	svc := binding.Entity{Name: "Service", Collection: "services"}
	env := binding.Entity{Name: "Environment", Collection: "environments"}

	r, err := binding.NewRegistry(
		binding.Binding{Entity: svc, Fields: []string{"NAME", "DESC"}, Table: "SERVICE"},
		binding.Binding{Entity: svc, Fields: []string{"NAME"}, Table: "SERVICE_NAMES"},
		binding.Binding{Entity: env, Fields: []string{"NAME"}, Table: "ENVIRONMENT"},
	)
	require.NoError(t, err)

	assert.Equal(t, []binding.Entity{svc, env}, r.Entities())
	assert.Len(t, r.Bindings(), 3)
	assert.Len(t, r.BindingsFor("Service"), 2)
	assert.Empty(t, r.BindingsFor("Pipeline"))
}

func TestRegistryDefaults(t *testing.T) {
	r, err := binding.NewRegistry(binding.Binding{
		Entity: binding.Entity{Name: "Service"},
		Fields: []string{"NAME", "", "NAME", "DESC"},
		Table:  "SERVICE",
	})
	require.NoError(t, err)

	b := r.Bindings()[0]
	assert.Equal(t, "Service", b.Entity.Collection)
	assert.Equal(t, binding.DefaultHandler, b.Handler)
	assert.Equal(t, []string{"NAME", "DESC"}, b.Fields)
}

func TestRegistryRejectsConflicts(t *testing.T) {
	r, err := binding.NewRegistry(binding.Binding{
		Entity: binding.Entity{Name: "Service", Collection: "services"},
		Table:  "SERVICE",
	})
	require.NoError(t, err)

	err = r.Register(binding.Binding{
		Entity: binding.Entity{Name: "Service", Collection: "svc"},
		Table:  "OTHER",
	})
	assert.ErrorIs(t, err, binding.ErrConflict)

	err = r.Register(binding.Binding{
		Entity: binding.Entity{Name: "Service", Collection: "services"},
		Table:  "SERVICE",
	})
	assert.ErrorIs(t, err, binding.ErrConflict)

	assert.Error(t, r.Register(binding.Binding{Entity: binding.Entity{Name: "X"}}))
	assert.Error(t, r.Register(binding.Binding{Table: "X"}))
}
