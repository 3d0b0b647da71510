// Package client provides a Go SDK for the TaskMesh control-surface API.
//
// The client is a thin net/http wrapper over the HTTP routes exposed by
// internal/api: task submission/lookup, queue statistics, circuit-breaker
// administration and the dead-letter queue, plus a WebSocket client for
// real-time event streaming.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	task, err := c.SubmitTask(ctx, client.CreateTaskRequest{
//	    Kind:    "text_processing",
//	    Payload: json.RawMessage(`{"text":"abc def"}`),
//	})
//
// # WebSocket Events
//
//	err := c.ConnectWebSocket(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Printf("Event: %s\n", event.Type)
//	}
//
// # Configuration
//
// The client supports functional options for configuration:
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithTimeout(30 * time.Second),
//	    client.WithHeader("X-Request-Source", "cli"),
//	)
package client
