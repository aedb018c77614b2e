package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrSvc     *user.Service
	ticketSvc  *ticket.Service
	validate   *validator.Validate
	translator ut.Translator
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate SUBCOMMAND [args]                          - run database migrations (up, down, status, ...)")
	fmt.Println("  addproctor -name NAME -username USERNAME -email EMAIL [-admin] - add a proctor account; the password will be prompted")
	fmt.Println("  voidticket -id TICKET_ID                           - void an issued ticket")
	fmt.Println("  reissueticket -id TICKET_ID                        - reissue a ticket, invalidating delivered codes")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addProctorCmd := flag.NewFlagSet("addproctor", flag.ExitOnError)
	addProctorName := addProctorCmd.String("name", "", "The proctor's full name.")
	addProctorUname := addProctorCmd.String("username", "", "The proctor's username.")
	addProctorEmail := addProctorCmd.String("email", "", "The proctor's email.")
	addProctorAdmin := addProctorCmd.Bool("admin", false, "Also grant the admin role.")

	voidTicketCmd := flag.NewFlagSet("voidticket", flag.ExitOnError)
	voidTicketID := voidTicketCmd.String("id", "", "The ticket ID to void.")

	reissueTicketCmd := flag.NewFlagSet("reissueticket", flag.ExitOnError)
	reissueTicketID := reissueTicketCmd.String("id", "", "The ticket ID to reissue.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "addproctor":
		if err := addProctorCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addProctorName == "" || *addProctorUname == "" || *addProctorEmail == "" {
			addProctorCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addProctorCmd.Usage()
			return errHelp
		}
		return cli.addProctor(*addProctorName, *addProctorUname, *addProctorEmail, string(pwd), *addProctorAdmin)
	case "voidticket":
		if err := voidTicketCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *voidTicketID == "" {
			voidTicketCmd.Usage()
			return errHelp
		}
		return cli.voidTicket(*voidTicketID)
	case "reissueticket":
		if err := reissueTicketCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *reissueTicketID == "" {
			reissueTicketCmd.Usage()
			return errHelp
		}
		return cli.reissueTicket(*reissueTicketID)
	default:
		cli.printUsage()
		return errHelp
	}
}
