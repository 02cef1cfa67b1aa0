// Package mqtt provides the MQTT client the stove bridge publishes through.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained flags
//   - Subscriptions that survive reconnection
//   - A retained online/offline status with a Last Will
//
// # Topics
//
//	fourheat/state/{device_id}    retained snapshot
//	fourheat/command/{device_id}  commands in
//	fourheat/ack/{device_id}      command acknowledgements
//	fourheat/health               retained bridge health
//	fourheat/system/status        online/offline (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Command("stove"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
//
// Use TLS (broker.tls) whenever the broker is not on the same host.
package mqtt
