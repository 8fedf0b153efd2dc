// Command activitycrawler polls GitHub public activity and emits tagged records.
package main

import "github.com/JakeFAU/github-activity-crawler/cmd"

func main() {
	cmd.Execute()
}
