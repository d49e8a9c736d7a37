// Package monitor is the client side of the remix server's monitoring page:
// the activity graph refreshed on an interval, timespan selection into a focus
// panel, and the live feed of track fragments pushed over the monitor channel.
package monitor
