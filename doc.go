/*
datapumps coordinates pumps: concurrent stages moving data from one bounded buffer to another.

A Pump reads the items of its input Buffer, hands each of them to its process, which writes into the pump buffers ("output" by default).
Once its input is sealed and drained, the pump seals its own buffers, and ends when its consumers have drained them.

A Group runs several named pumps as one stage:

- Start hands the group error buffer to every pump, then starts all the stopped pumps. It does not wait for them.
- Pause waits for every started pump to finish the items it is working on, then flags the group as paused. Resume restarts them all.
- The group ends, and emits EventEnd once, when the last of its pumps ends, whatever the order they end in.
- When too many process failures filled the error buffer, the group pauses itself and emits EventError. WhenFinished then delivers ErrPumpingFailed,
  the failures themselves (*ProcessError) are to be read from the error buffer.

Pump identities are hierarchical: a pump named "load" in a group with id "etl" gets id "etl/load". Groups implement Stage, like pumps do,
so a group can be registered into another group.

Buffers of the pumps are addressed by path, "<pump>" for the output buffer of a pump, "<pump>/<buffer>" for a named one. A group can expose
them under an alias, so the consumers of the group do not depend on its inner layout.

Item processing of a pump runs in Pools, bounded goroutine pools built on ants. A pump without pool processes its items one after the other,
WithConcurrency lets it process several of them at once. The group uses the same pools to pause its pumps concurrently.

As for any performance tuning, size buffers and pools from measures, not guesses.
*/

package datapumps
