package main

import (
	"log"
	"os"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
	"github.com/icue/varsity/storage/database"
	sqlxrepos "github.com/icue/varsity/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(db.Ping())

	userRepo := sqlxrepos.NewUserRepository(db)
	examRepo := sqlxrepos.NewExamRepository(db)
	ticketRepo := sqlxrepos.NewTicketRepository(db)

	codec := ticket.NewCodec(conf.SecretKey)
	validate, translator := core.NewValidator()

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrSvc:     user.NewService(userRepo),
		ticketSvc:  ticket.NewService(ticketRepo, examRepo, userRepo, codec, nil, nil),
		validate:   validate,
		translator: translator,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
