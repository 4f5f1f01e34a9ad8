package tracker

// connectionStatus holds the connection state to the gateway and the queue.
// The overall service counts as online only when both are. Both flags start
// true: the service assumes connectivity until told otherwise.
//
// Not self-synchronized; callers hold the tracker's status mutex.
type connectionStatus struct {
	gatewayOnline bool
	queueOnline   bool
}

func newConnectionStatus() *connectionStatus {
	return &connectionStatus{gatewayOnline: true, queueOnline: true}
}

func (s *connectionStatus) online() bool {
	return s.gatewayOnline && s.queueOnline
}

// onlineUpdate applies a QueueOnline/GatewayOnline message and reports
// whether the whole service just transitioned to online. Other kinds leave
// the flags untouched.
func (s *connectionStatus) onlineUpdate(msg UpdateMessage) bool {
	offlineBefore := !s.online()
	switch msg.Kind {
	case QueueOnline:
		s.queueOnline = true
	case GatewayOnline:
		s.gatewayOnline = true
	}
	return offlineBefore && s.online()
}

// offlineUpdate applies a QueueOffline/GatewayOffline message and reports
// whether the whole service just transitioned to offline.
func (s *connectionStatus) offlineUpdate(msg UpdateMessage) bool {
	onlineBefore := s.online()
	switch msg.Kind {
	case QueueOffline:
		s.queueOnline = false
	case GatewayOffline:
		s.gatewayOnline = false
	}
	return onlineBefore && !s.online()
}
