package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) voidTicket(id string) error {
	tkt, err := cli.ticketSvc.Void(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("ticket %s is now %s\n", tkt.ID, tkt.State)
	return nil
}

// reissueTicket bumps the ticket's token version and prints the fresh token
// so it can be re-delivered to the student.
func (cli *commandLine) reissueTicket(id string) error {
	tkt, token, err := cli.ticketSvc.Reissue(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("ticket %s reissued at version %d\nnew token: %s\n", tkt.ID, tkt.TokenVersion, token)
	return nil
}
