// Package containers starts Docker dependencies for integration tests using
// testcontainers-go:
//
//   - MySQL 8.0 as the cache storage backend
//   - Eclipse Mosquitto as the MQTT notification broker //nolint:misspell
//   - ntfy as a shoutrrr notification target
//
// Containers are usually shared through TestMain:
//
//	func TestMain(m *testing.M) {
//	    mysqlContainer, err := containers.NewMySQLContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Files in this package carry the "integration" build tag:
//
//	go test -tags=integration ./...
package containers
