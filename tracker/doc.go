/*
Package tracker contains the data model and the playback engine of the pitch
editor.

A Track holds the source audio and analysis of one loaded file together with
the edited pitch and tension curves. The synthesized audio of a vocal track is
cached per segment: edits only mark the segments they touch as dirty, and the
Scheduler re-synthesizes the dirty segments in a background pass and stitches
them into the track's full buffer.

For playback, the tracks are frozen into an immutable Session, which the
Player mixes in the audio device callback. The Player never blocks on the
model; it reports back through the Broker.

The Model ties all of this together for the GUI thread. It owns the track
list, forbids structural changes while a background task runs and turns task
results into Alerts.
*/
package tracker
