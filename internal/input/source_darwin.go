//go:build darwin && cgo

package input

// #cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
// #include <ApplicationServices/ApplicationServices.h>
//
// void keystrKeyDown(void);
//
// static CFMachPortRef tapPort;
// static CFRunLoopSourceRef tapSource;
// static CFRunLoopRef tapLoop;
// static volatile int tapStopping;
//
// static CGEventRef eventCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
//     if (type == kCGEventKeyDown) {
//         // The keycode field is never read.
//         keystrKeyDown();
//     } else if (type == kCGEventTapDisabledByTimeout || type == kCGEventTapDisabledByUserInput) {
//         if (tapPort) {
//             CGEventTapEnable(tapPort, true);
//         }
//     }
//     return event;
// }
//
// static int createTap(void) {
//     tapStopping = 0;
//     CGEventMask mask = CGEventMaskBit(kCGEventKeyDown);
//     tapPort = CGEventTapCreate(
//         kCGSessionEventTap,
//         kCGHeadInsertEventTap,
//         kCGEventTapOptionListenOnly,
//         mask,
//         eventCallback,
//         NULL
//     );
//     if (!tapPort) {
//         return 0;
//     }
//     tapSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tapPort, 0);
//     tapLoop = CFRunLoopGetCurrent();
//     CFRunLoopAddSource(tapLoop, tapSource, kCFRunLoopCommonModes);
//     CGEventTapEnable(tapPort, true);
//     return 1;
// }
//
// static void runTap(void) {
//     // Polling the flag covers a stop that lands before the loop runs.
//     while (!tapStopping) {
//         CFRunLoopRunInMode(kCFRunLoopDefaultMode, 1.0, false);
//     }
//     CGEventTapEnable(tapPort, false);
//     CFRunLoopRemoveSource(tapLoop, tapSource, kCFRunLoopCommonModes);
//     CFMachPortInvalidate(tapPort);
//     CFRelease(tapSource);
//     CFRelease(tapPort);
//     tapPort = NULL;
//     tapSource = NULL;
//     tapLoop = NULL;
// }
//
// static void stopTap(void) {
//     tapStopping = 1;
//     if (tapLoop) {
//         CFRunLoopStop(tapLoop);
//     }
// }
import "C"

import (
	"runtime"
	"sync"
)

var (
	globalTap   *tapSubscription
	callbackMux sync.Mutex
)

//export keystrKeyDown
func keystrKeyDown() {
	callbackMux.Lock()
	sub := globalTap
	callbackMux.Unlock()
	if sub != nil {
		sub.handler(KeyPress{})
	}
}

type eventTapSource struct{}

func platformSource(Options) Source {
	return eventTapSource{}
}

// Subscribe installs a listen-only CGEventTap on a dedicated OS thread. Only
// one tap may be active per process.
func (eventTapSource) Subscribe(h Handler) (Subscription, error) {
	sub := &tapSubscription{
		handler: h,
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	callbackMux.Lock()
	if globalTap != nil {
		callbackMux.Unlock()
		return nil, ErrAlreadySubscribed
	}
	globalTap = sub
	callbackMux.Unlock()

	created := make(chan bool, 1)
	go func() {
		defer close(sub.done)
		// The run loop belongs to the thread that created the tap.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if C.createTap() == 0 {
			created <- false
			return
		}
		created <- true
		C.runTap()
	}()

	if !<-created {
		callbackMux.Lock()
		globalTap = nil
		callbackMux.Unlock()
		// CGEventTapCreate only fails when the process is not trusted for
		// accessibility or input monitoring.
		return nil, ErrPermission
	}
	return sub, nil
}

type tapSubscription struct {
	handler Handler
	errs    chan error
	done    chan struct{}
	once    sync.Once
}

func (s *tapSubscription) Unsubscribe() error {
	s.once.Do(func() {
		callbackMux.Lock()
		if globalTap == s {
			globalTap = nil
		}
		callbackMux.Unlock()
		C.stopTap()
		<-s.done
	})
	return nil
}

func (s *tapSubscription) Err() <-chan error {
	return s.errs
}
