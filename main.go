package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sizero-service/config"
	"sizero-service/controller"
	"sizero-service/database"
	"sizero-service/event"
	"sizero-service/event/listener"
	"sizero-service/fanout"
	"sizero-service/gate"
	"sizero-service/logging"
	"sizero-service/registry"
	"sizero-service/router"
	"sizero-service/signaling"
	"sizero-service/socketio"
	"sizero-service/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "sizero-service",
	})

	rest.Use(cors.New())

	database.RedisConnect()
	database.PostgresConnect()

	event.RabbitMQConnect([]string{
		// Connect to queues
		"api",
		"backoffice",
	})

	// Run backoffice listener
	go listener.Backoffice()

	// Subscribe listener channel to "backoffice" events
	event.RabbitMQSubscribe([]event.RabbitMQSubscribeListener{
		{
			Queue:   "backoffice",
			Channel: listener.BackofficeChannel,
		},
	})

	socket := socketio.Init(rest)

	// Realtime core
	st := store.New(database.Postgres)
	gt := gate.New(st)
	reg := registry.New(gt)
	engine := fanout.New(st, gt, reg)
	engine.SetPublisher(func(action string, data []byte) {
		if err := event.Emit("api", action, data); err != nil {
			logging.Log.Warn().Err(err).Str("action", action).Msg("event publish failed")
		}
	})
	relay := signaling.New(gt, reg)

	router.Rest(rest, &controller.Chat{Store: st, Gate: gt}, &controller.Users{Store: st})
	router.Socket(socket, &router.SocketDeps{
		Store:     st,
		Registry:  reg,
		Fanout:    engine,
		Signaling: relay,
	})

	go rest.Listen(fmt.Sprintf(":%s", config.Config("SERVER_PORT")))
	logging.Log.Info().Str("port", config.Config("SERVER_PORT")).Msg("listening")

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	socket.Close(nil)
	event.RabbitMQChannel.Close()
	event.RabbitMQConnection.Close()
	event.InLogFile.Close()
	event.OutLogFile.Close()
	os.Exit(0)
}
