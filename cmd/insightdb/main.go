// Command insightdb runs the InsightDB database gateway and AI query API.
package main

func main() {
	Execute()
}
