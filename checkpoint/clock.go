package checkpoint

import "time"

// clockNow is indirected so tests can freeze time without a full clock
// injection abstraction; the engine itself always uses wall time.
var clockNow = time.Now
