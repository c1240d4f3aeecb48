//go:build windows

// Package winsvc lets `hb-service run` execute under the Windows service
// control manager, which is how nssm-less installs start it.
package winsvc

import (
	"context"

	"golang.org/x/sys/windows/svc"
)

// IsWindowsService reports whether the process was started by the SCM.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run hands control to the SCM and runs handler until a stop or shutdown
// request arrives.
func Run(name string, handler func(ctx context.Context) error) error {
	return svc.Run(name, &service{handler: handler})
}

// service implements svc.Handler.
type service struct {
	handler func(ctx context.Context) error
}

func (s *service) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.handler(ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return true, 1
			}
			return false, 0

		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				<-errCh
				return false, 0
			}
		}
	}
}
