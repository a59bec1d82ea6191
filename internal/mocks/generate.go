// Package mocks provides gomock doubles for the gateway's outbound ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	provider := mocks.NewMockProvider(ctrl)
//	provider.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(match.Match{}, nil)
package mocks

// Generate mock for the match Provider interface.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=match_provider_mock.go github.com/ftmatch/authgate/match Provider
