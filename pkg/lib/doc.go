// Package lib provides a Go SDK to submit documents to the OCR service and track
// their processing programmatically.
//
// The client keeps an ordered list of tasks, one per submitted document. Every
// started task is uploaded, processed and completed (or failed) in background
// while its live progress is streamed from the service. Applications observe the
// tasks with [Client.Subscribe] or read them with [Client.Tasks].
//
// # Quick Start
//
//	client, err := lib.New(lib.Config{APIURL: "http://localhost:8000"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Login(ctx, "user", "password", false); err != nil {
//	    log.Fatal(err)
//	}
//
//	client.AddFile("/path/to/invoice.pdf")
//	client.StartAll(ctx)
//	client.Wait()
//
//	for _, t := range client.Tasks() {
//	    fmt.Println(t.File, t.Status, t.Progress)
//	}
//
// # Backends
//
//   - [BackendAPI]: The OCR service REST API with WebSocket progress.
//   - [BackendFake]: In-process simulated recognition. No service needed, use it
//     for testing and demos.
//
// # Observing progress
//
// Subscribers receive the full ordered task list after every change. They are
// called synchronously and must not call the client back:
//
//	unsubscribe := client.Subscribe(func(tasks []lib.Task) {
//	    for _, t := range tasks {
//	        fmt.Printf("%s %d%%\n", t.File, t.Progress)
//	    }
//	})
//	defer unsubscribe()
//
// # History
//
// Set [Config.HistoryDBPath] to record the finished tasks in a SQLite database.
// [Client.History] lists them, and [Client.Result] and [Client.Export] use the
// recorded results of the tasks the backend doesn't know anymore.
//
// # Errors
//
// Errors can be checked with [errors.Is] against:
//
//   - [ErrNotFound]: Task or result does not exist.
//   - [ErrAlreadyExists]: The resource already exists (e.g. export destination).
//   - [ErrNotValid]: Invalid input (unsupported file, bad format...).
//   - [ErrNotAuthenticated]: The service rejected the credentials.
package lib
