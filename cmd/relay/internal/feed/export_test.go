package feed

// SetClock replaces the reconnect clock.
func (c *Connector) SetClock(clk Clock) { c.clock = clk }
