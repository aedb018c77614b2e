package main

import (
	"context"
	"fmt"

	"github.com/icue/varsity/core/user"
)

// addProctor creates a proctor (teacher) account, optionally with the admin
// role as well.
func (cli *commandLine) addProctor(name, uname, email, pwd string, isAdmin bool) error {
	roles := []string{user.RoleTeacher}
	if isAdmin {
		roles = append(roles, user.RoleAdmin)
	}

	nu := user.NewUser{
		Name:            name,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	}
	if err := nu.Validate(cli.validate, cli.translator, cli.usrSvc); err != nil {
		return err
	}

	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Printf("proctor %s (%s) created\n", usr.Username, usr.ID)
	return nil
}
