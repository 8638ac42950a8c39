package usecase

var (
	greetings = []string{
		"Hey! I'm CoronaBot. Check out what would be your death risk after being diagnosed with COVID19.",
		"Hi there, I'm CoronaBot! I can estimate your death risk after a COVID19 diagnosis.",
		"Hello! CoronaBot here. Tell me a bit about yourself and I'll estimate your COVID19 death risk.",
	}
	fallbacks = []string{
		"Sorry, I don't understand yet. But I'll learn from this conversation and improve in the future!",
		"I didn't get that. I'm still learning and this conversation will help me improve!",
		"Hmm, that one is new to me. I'll learn from it and do better in the future!",
	}
	apologies = []string{
		"I'm sorry, I try to do my best. I'll learn from this conversation and hopefully next time I'll be better!",
		"Sorry about that. I'm still learning and I hope to do better next time!",
	}
	farewells = []string{
		"Bye :( Great talking to you! Come back later, as I will improve!",
		"Goodbye! Thanks for the chat. Come back later, I'll be smarter!",
		"See you! Come back soon, I keep getting better.",
	}
)

const (
	readyToExplain  = "I'm ready to explain the reasons for your prediction!"
	helpPrompt      = "Click below if you need help"
	predictionDown  = "Sorry, I can't reach the prediction model right now. Your answers are saved, ask me for your prediction again in a moment."
	startOver       = "Let's start from the beginning!"
	creatingPlot    = "Creating a plot. It may take a few seconds..."
	agePrompt       = "I don't really think you are %s years old. Tell me your real age."
	ageUnparsable   = "Sorry, I couldn't read %q as an age. Tell me your age in years."
	ageMissing      = "Sorry, I didn't catch your age. Tell me how old you are."
	ageImplausible  = "Well, Wikipedia says no one has ever lived that long. Still, it might be interesting to see what the model does in such cases."
	variableCleared = "Variable %s was cleared"
	variableUnknown = "I don't know the variable %s"
	breakDownBody   = "This chart illustrates the contribution of variables to the final prediction"
	seeLargerPlot   = "See larger plot"
)
