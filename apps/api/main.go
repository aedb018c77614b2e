package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/icue/varsity/apps/api/echo"
	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/checkin"
	"github.com/icue/varsity/core/payment"
	"github.com/icue/varsity/core/ticket"
	"github.com/icue/varsity/core/user"
	brokersvc "github.com/icue/varsity/services/broker"
	emailsvc "github.com/icue/varsity/services/email"
	logsvc "github.com/icue/varsity/services/logger"
	"github.com/icue/varsity/storage/database"
	sqlxrepos "github.com/icue/varsity/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	var logger core.Logger
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if conf.Debug {
		logger = logsvc.NewConsoleLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
		logger.Enable(true)
	}

	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() { _ = db.Close() }()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var pub checkin.Publisher
	if conf.Debug || conf.Broker.URL == "" {
		pub = brokersvc.NewConsolePublisher(logger)
	} else {
		amqpPub, err := brokersvc.NewAMQPPublisher(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to broker: %v", err), err)
		}
		defer amqpPub.Close()
		pub = amqpPub
	}

	// repositories
	userRepo := sqlxrepos.NewUserRepository(db)
	examRepo := sqlxrepos.NewExamRepository(db)
	ticketRepo := sqlxrepos.NewTicketRepository(db)
	checkInRepo := sqlxrepos.NewCheckInRepository(db)
	paymentRepo := sqlxrepos.NewPaymentRepository(db)

	// services
	codec := ticket.NewCodec(conf.SecretKey)
	usrSvc := user.NewService(userRepo)
	ticketSvc := ticket.NewService(ticketRepo, examRepo, userRepo, codec, mailSvc, logger)
	checkInSvc := checkin.NewService(conf, checkInRepo, ticketRepo, examRepo, codec, pub, logger)
	registry := payment.NewRegistry(
		payment.NewMPesaGateway(conf.Payment.MPesaBaseURL, conf.Payment.CallbackURL),
		payment.NewAirtelGateway(conf.Payment.AirtelBaseURL, conf.Payment.CallbackURL),
		payment.NewTigoPesaGateway(conf.Payment.TigoPesaBaseURL, conf.Payment.CallbackURL),
		payment.NewCardGateway(conf.Payment.StripeKey),
	)
	paymentSvc := payment.NewService(paymentRepo, registry, examRepo, ticketSvc, logger)

	validate, translator := core.NewValidator()

	// =========================================================================
	// Start API Service

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		TicketSvc:  ticketSvc,
		CheckInSvc: checkInSvc,
		PaymentSvc: paymentSvc,
		Validate:   validate,
		Translator: translator,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		return nil, err
	}
	return db, nil
}
