// Package mocks provides gomock doubles for the collaborator interfaces the
// core talks to.
//
// To regenerate after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mailer := mocks.NewMockMailer(ctrl)
//	mailer.EXPECT().SendMail(gomock.Any(), "a@example.com", gomock.Any(), gomock.Any()).Return(nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=delivery_mock.go github.com/MrEthical07/goGate/delivery Mailer,SMSGateway
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=principal_repository_mock.go github.com/MrEthical07/goGate/principal Repository
