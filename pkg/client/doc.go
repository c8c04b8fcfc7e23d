/*
Package client provides a Go client library for the GGnet HTTP API.

The client wraps the REST and WebSocket surface of the boot server with
typed methods, bearer-token authentication, chunked image uploads with
progress reporting, and error decoding back into the errdefs taxonomy.
Both the ggnet CLI and external tooling build on it.

# Usage

Creating a client:

	import "github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/client"

	c := client.New("http://boot-server:8080",
		client.WithToken(os.Getenv("GGNET_TOKEN")))

Registering a machine and starting a session:

	machine, err := c.CreateMachine(&types.Machine{
		Hostname:   "gaming-pc-01",
		MACAddress: "aa:bb:cc:dd:ee:ff",
	})
	if err != nil {
		return err
	}
	sess, err := c.StartSession(machine.ID, image.ID)

Uploading an image with progress:

	img, err := c.UploadImage("win11-base", "/srv/masters/win11.vhdx", "",
		func(sent, total int64) {
			bar.Set64(sent)
		})
	if err != nil {
		return err
	}
	// VHDX converts in the background; wait for READY.
	img, err = c.WaitImageReady(ctx, img.ID, 2*time.Second)

Watching events:

	stream, err := c.Events(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		ev, err := stream.Next()
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Message)
	}

# Errors

Server error responses carry a stable machine-readable code. The client
rebuilds them into errors the errdefs helpers classify, so callers can
branch the same way server-side code does:

	_, err := c.GetMachine(id)
	switch {
	case errdefs.IsNotFound(err):
		// no such machine
	case errdefs.IsUnauthenticated(err):
		// token expired or revoked
	}

Transport failures (server unreachable, connection reset) are returned
as plain wrapped errors without a code.

# Timeouts

Every method builds its own request deadline: 10 seconds by default
(configurable with WithTimeout), 2 minutes for session start/stop and
upload finalization, 5 minutes per upload chunk. The event stream has
none; it lives until Close or context cancellation.
*/
package client
