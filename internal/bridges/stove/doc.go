// Package stove bridges the poll controller to MQTT.
//
// # Topics
//
//	fourheat/state/{device_id}    retained StateMessage after every successful poll
//	fourheat/command/{device_id}  CommandMessage in
//	fourheat/ack/{device_id}      AckMessage out, one per command
//	fourheat/health               retained HealthMessage every interval
//
// # Commands
//
//	on, off, reset, refresh, crono_enable, crono_disable
//	set_parameter    {"id": "00c7", "value": 55}
//	set_temperature  {"value": 21.5}
//
// Commands run on their own goroutines and queue behind polls in the
// device transport, so an ack may arrive several seconds after the command.
//
// # Usage
//
//	bridge, err := stove.NewBridge(stove.Options{
//	    DeviceID: cfg.Device.ID,
//	    MQTT:     mqttClient,
//	    Stove:    ctrl,
//	})
//	ctrl.OnPoll(bridge.HandlePoll)
//	bridge.Start(ctx)
//	defer bridge.Stop()
package stove
