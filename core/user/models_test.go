package user_test

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/user"
	inmemdb "github.com/icue/varsity/storage/database/inmem"
	testutil "github.com/icue/varsity/tests"
)

func TestValidRole(t *testing.T) {
	for _, role := range user.AllRoles {
		assert.True(t, user.ValidRole(role), role)
	}
	assert.False(t, user.ValidRole("registrar"))
	assert.False(t, user.ValidRole(""))
}

func TestNewUser_Validate_roles(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := user.NewService(inmemdb.NewUserRepository(db))
	validate, translator := core.NewValidator()

	newUser := func(uname string, roles []string) user.NewUser {
		return user.NewUser{
			Name:            "Asha Juma",
			Username:        uname,
			Email:           uname + "@test.cd",
			Password:        "Sup3rS3cret",
			PasswordConfirm: "Sup3rS3cret",
			Roles:           roles,
		}
	}

	// every known role is accepted
	for i, role := range user.AllRoles {
		nu := newUser(fmt.Sprintf("user%d", i), []string{role})
		if err := nu.Validate(validate, translator, svc); err != nil {
			t.Errorf("Validate(%s) failed: %v", role, err)
		}
	}

	nu := newUser("impostor", []string{user.RoleStudent, "registrar"})
	err := nu.Validate(validate, translator, svc)
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		t.Fatalf("expected *core.ValidationError, got %T: %v", err, err)
	}
	assert.Equal(t, user.ErrUnknownRole, vErr.Err)
	if assert.Len(t, vErr.Fields, 1) {
		assert.Equal(t, "roles", vErr.Fields[0].Field)
	}
}
