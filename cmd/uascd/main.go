package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/uamesh/uasc/server"
	"github.com/uamesh/uasc/ua"
	"github.com/uamesh/uasc/utils"
)

func main() {
	configs := utils.GetConfig()
	logger := utils.NewLogger()
	defer logger.Sync()

	store := server.NewCertificateStore()
	certificate, key, err := server.LoadCertificate(configs.CertFile, configs.KeyFile)
	if err != nil {
		applicationURI := fmt.Sprintf("urn:%s:uascd:%s", configs.Host, uuid.NewString())
		logger.Infow("no server certificate found, generating a self-signed one",
			"applicationURI", applicationURI)
		certificate, key, err = server.GenerateSelfSigned(configs.CertFile, configs.KeyFile, configs.Host, applicationURI)
		if err != nil {
			log.Fatalln(errors.Wrap(err, "creating server certificate"))
		}
	}
	store.Add(certificate, key)

	endpointURL := fmt.Sprintf("opc.tcp://%s:%d", configs.Host, configs.Port)
	srv := server.New(
		endpointURL,
		ua.NewSecureChannelCodecRegistry(),
		store,
		logger,
		server.WithSecureChannelLifetime(configs.SecureChannelLifetimeMs),
		server.WithMaxChunkCount(configs.MaxChunkCount),
		server.WithMaxMessageSize(configs.MaxMessageSize),
		server.WithReceiveBufferSize(configs.ReceiveBufferSize),
		server.WithSendBufferSize(configs.SendBufferSize),
		server.WithMaxWorkerThreads(configs.MaxWorkerThreads),
	)

	go func() {
		logger.Infow("starting server", "endpoint", endpointURL)
		if err := srv.ListenAndServe(); err != ua.BadServerHalted {
			logger.Errorw("server stopped", "error", err)
		}
	}()

	// Wait for a signal before exiting
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	signal.Notify(sig, syscall.SIGTERM)
	<-sig
	logger.Info("stopping server...")
	srv.Close()
}
