package notification

import (
	"fmt"
	"sync"
)

var (
	instance *Service
	once     sync.Once
	mu       sync.RWMutex
)

// Initialize sets up the global notification service instance. Only the
// first call has an effect.
func Initialize(config *ServiceConfig) error {
	var err error
	once.Do(func() {
		var svc *Service
		svc, err = NewService(config)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		instance = svc
	})
	return err
}

// GetService returns the global notification service instance, or nil
// before Initialize.
func GetService() *Service {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// SetServiceForTesting allows setting a custom service instance for testing only.
// It returns an error if the service is already initialized.
func SetServiceForTesting(service *Service) error {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return fmt.Errorf("notification service already initialized")
	}

	instance = service
	return nil
}

// ResetForTesting clears the global instance.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}

// IsInitialized checks if the notification service has been initialized
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return instance != nil
}
