package link

import (
	"sync"
	"testing"
)

// The adapter's connect handler fires on the stack's goroutine while
// OnDisconnect is called from the state machine; both paths must be safe
// to run concurrently.
func TestConnectionDisconnectCallbackConcurrent(t *testing.T) {
	conn := &bluetoothConnection{}

	var fired sync.WaitGroup
	fired.Add(1)
	var once sync.Once

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			conn.OnDisconnect(func() {
				once.Do(fired.Done)
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			conn.disconnected()
		}
	}()
	wg.Wait()

	// A callback registered before the last delivery must have run.
	conn.disconnected()
	fired.Wait()
}

func TestConnectionDisconnectWithoutCallback(t *testing.T) {
	conn := &bluetoothConnection{}
	conn.disconnected() // must not panic
}
