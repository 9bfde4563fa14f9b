// Package mqtt provides MQTT client connectivity for the Autelis bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after reconnect
//   - Last Will and Testament (LWT) on the bridge status topic
//
// The bridge publishes controller state under a configurable prefix and
// listens for commands below it; see Topics for the layout.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        device, _ := topics.ParseCommand(topic)
//	        log.Printf("command for %s: %s", device, payload)
//	        return nil
//	    })
package mqtt
