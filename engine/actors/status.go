package actors

var terminateChan chan struct{}

// SetTerminateChan registers the channel closed when the daemon should stop.
func SetTerminateChan(term chan struct{}) {
	terminateChan = term
}

func GetTerminateChan() chan struct{} {
	return terminateChan
}
