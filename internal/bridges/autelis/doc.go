// Package autelis implements the Autelis pool controller bridge.
//
// The controller exposes its state as an XML document over HTTP and accepts
// writes through a query-string CGI endpoint. This package polls the one,
// drives the other, and exposes both on the MQTT bus.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   HTTP/XML
//	│   MQTT clients  │   MQTT   │  Autelis Bridge │◄──────────► Controller
//	│ (HA, Node-RED)  │◄────────►│   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// Inside the bridge:
//
//	Poller ──► Normalizer ──► SnapshotCell ◄── CommandProcessor ──► Queue
//	   │                          │                   │               │
//	   └──── status.xml           └── publish         └── set.cgi ◄───┘
//
// # Snapshots
//
// Each successful poll produces a new immutable Snapshot keyed by canonical
// device names ("jets" rather than "aux1"). It is swapped into the
// SnapshotCell as a whole, so readers never see a partial update. A failed
// poll leaves the previous snapshot in place.
//
// # Commands
//
// Commands arrive on {prefix}/set/{device}. Switches and heaters are written
// immediately; setpoints are queued and written one at a time with a fixed
// spacing. A command whose desired state matches the snapshot is a no-op.
// The bridge never updates the snapshot optimistically; the next poll
// reports the controller's own view.
//
// # Errors
//
// Every failure wraps one of ErrTransport, ErrDecode, ErrValidation or
// ErrInternal and is funnelled through an ErrorSink, which logs it and
// publishes an ExceptionMessage on {prefix}/exception. No failure stops the
// loops.
package autelis
