// Package influxdb mirrors FireWatch sensor readings and liveness transitions
// into InfluxDB v2 for long-range charting.
//
// The relational store keeps only what the core needs; InfluxDB is the
// optional history sink. Writes are non-blocking and batched according to
// influxdb.batch_size and influxdb.flush_interval.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("FW-001", "smoke", 412.5, time.Now())
package influxdb
